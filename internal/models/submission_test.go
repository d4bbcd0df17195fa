package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

func TestSubmission_Fields(t *testing.T) {
	typ := reflect.TypeOf(Submission{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "Identifier", "uniqueIndex")
	assertGormTag(t, typ, "Identifier", "not null")
	assertGormTag(t, typ, "ChannelID", "index:idx_slot")
	assertGormTag(t, typ, "ThreadID", "index:idx_slot")
	assertGormTag(t, typ, "MimeType", "not null")
	assertGormTag(t, typ, "FileID", "not null")
	assertGormTag(t, typ, "FileUniqueID", "not null")
	assertGormTag(t, typ, "Published", "default:false")
	assertGormTag(t, typ, "Step", "default:idle")
	assertGormTag(t, typ, "Transcoded", "default:false")
	assertGormTag(t, typ, "Uploaded", "default:false")
	assertGormTag(t, typ, "Cleaned", "default:false")
}

func TestSubmission_TagList(t *testing.T) {
	tests := []struct {
		name string
		tags string
		want []string
	}{
		{"empty", "", nil},
		{"single", "podcast", []string{"podcast"}},
		{"several", "a,b,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Submission{Tags: tt.tags}
			got := s.TagList()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TagList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStep_Valid(t *testing.T) {
	for _, s := range []Step{
		StepIdle, StepAwaitingTitle, StepAwaitingTitleConfirm,
		StepAwaitingDescription, StepAwaitingDescriptionConfirm,
		StepAwaitingTags, StepAwaitingTagsConfirm, StepAwaitingFinalConfirm,
		StepPublishing, StepDiscarding,
	} {
		if !s.Valid() {
			t.Errorf("Step(%q).Valid() = false, want true", s)
		}
	}
	if Step("bogus").Valid() {
		t.Error(`Step("bogus").Valid() = true, want false`)
	}
}

func TestStep_Terminal(t *testing.T) {
	if !StepPublishing.Terminal() || !StepDiscarding.Terminal() {
		t.Error("publishing and discarding should be terminal")
	}
	if StepAwaitingFinalConfirm.Terminal() {
		t.Error("awaiting_final_confirm should not be terminal")
	}
}
