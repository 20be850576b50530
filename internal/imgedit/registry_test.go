package imgedit

import "testing"

type regFakeEditor struct {
	name  string
	flags Flags
}

func (f *regFakeEditor) Name() string            { return f.name }
func (f *regFakeEditor) Descriptor() string      { return "registry test editor" }
func (f *regFakeEditor) Flags() Flags            { return f.flags }
func (f *regFakeEditor) HeaderSize() int64       { return 0 }
func (f *regFakeEditor) NewState() State         { return nil }
func (f *regFakeEditor) SearchMagic() SearchMagic { return SearchMagic{} }

// TestRegisterPreservesOrderAndFirstNameWins covers the registration
// idempotence/order property: All() returns editors in registration
// order even when names collide, but ByName always resolves to the
// first editor registered under that name.
func TestRegisterPreservesOrderAndFirstNameWins(t *testing.T) {
	r := newRegistry()
	first := &regFakeEditor{name: "dup", flags: FlagSingleBin}
	second := &regFakeEditor{name: "dup", flags: FlagSingleBin}
	third := &regFakeEditor{name: "other", flags: FlagMultiBin}

	r.Register(first)
	r.Register(second)
	r.Register(third)

	all := r.All()
	if len(all) != 3 || all[0] != first || all[1] != second || all[2] != third {
		t.Fatalf("All() did not preserve registration order: %+v", all)
	}

	got, ok := r.ByName("dup")
	if !ok || got != first {
		t.Fatalf("ByName(%q) = %v, %v; want first registration", "dup", got, ok)
	}
}

func TestRegistryByNameMissing(t *testing.T) {
	r := newRegistry()
	if _, ok := r.ByName("nope"); ok {
		t.Fatal("ByName found an editor that was never registered")
	}
}

func TestAllReturnsACopy(t *testing.T) {
	r := newRegistry()
	r.Register(&regFakeEditor{name: "a", flags: FlagSingleBin})

	all := r.All()
	all[0] = &regFakeEditor{name: "mutated", flags: FlagSingleBin}

	again := r.All()
	if again[0].Name() != "a" {
		t.Fatalf("mutating a prior All() result leaked into the registry: got %q", again[0].Name())
	}
}

func TestMustFlagsPanicsWhenNeitherBinFlagSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic for an editor declaring neither bin flag")
		}
	}()
	newRegistry().Register(&regFakeEditor{name: "neither", flags: FlagHideInfoWhenList})
}

func TestMustFlagsPanicsWhenBothBinFlagsSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic for an editor declaring both bin flags")
		}
	}()
	newRegistry().Register(&regFakeEditor{name: "both", flags: FlagSingleBin | FlagMultiBin})
}

func TestNewContextWithDefaultsSeedsFromPackageRegistrations(t *testing.T) {
	savedDefaults := defaultEditors
	defer func() { defaultEditors = savedDefaults }()

	defaultEditors = nil
	e := &regFakeEditor{name: "seeded", flags: FlagSingleBin}
	RegisterDefault(e)

	ctx := NewContextWithDefaults()
	got, ok := ctx.Registry().ByName("seeded")
	if !ok || got != e {
		t.Fatalf("NewContextWithDefaults did not seed editor registered via RegisterDefault")
	}
}
