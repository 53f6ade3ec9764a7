package catalog

import (
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDeriveAvailable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		copies := rapid.IntRange(-1000, 1000).Draw(t, "copies")
		got := DeriveAvailable(copies)
		if got != (copies > 0) {
			t.Fatalf("DeriveAvailable(%d) = %v", copies, got)
		}
		if DeriveAvailable(copies) != got {
			t.Fatalf("DeriveAvailable is not stable for %d", copies)
		}
	})
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "9780261103573", NormalizeISBN("978-0-261 10357-3"))
	assert.Equal(t, "", NormalizeISBN(" - "))

	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[0-9X\- \t]{0,20}`).Draw(t, "isbn")
		once := NormalizeISBN(raw)
		if NormalizeISBN(once) != once {
			t.Fatalf("not idempotent: %q -> %q", raw, once)
		}
		for _, r := range once {
			if r == '-' || r == ' ' || r == '\t' {
				t.Fatalf("separator left in %q", once)
			}
		}
	})
}

func TestNormalizeAuthor(t *testing.T) {
	cases := map[string]string{
		"j.r.r. tolkien":        "J.R.R. Tolkien",
		"  URSULA   k. le guin ": "Ursula K. Le Guin",
		"":                      "",
		"a.":                    "A.",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAuthor(in), in)
	}

	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[a-zA-Z. ]{0,30}`).Draw(t, "author")
		once := NormalizeAuthor(raw)
		if NormalizeAuthor(once) != once {
			t.Fatalf("not idempotent: %q -> %q", raw, once)
		}
	})
}

func TestNewBookDerivesFields(t *testing.T) {
	id := uuid.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	book := NewBook{
		Title:  "  The Hobbit ",
		Author: "j.r.r. tolkien",
		ISBN:   "978-0261103573",
		Copies: 0,
	}.Book(id, now)

	assert.Equal(t, "The Hobbit", book.Title)
	assert.Equal(t, "J.R.R. Tolkien", book.Author)
	assert.Equal(t, GenreUncategorized, book.Genre)
	assert.Equal(t, "9780261103573", book.ISBN)
	assert.False(t, book.Available)
	assert.Equal(t, now, book.CreatedAt)
}

func TestBookPatchKeepsAvailabilityInStep(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.IntRange(0, 50).Draw(t, "start")
		next := rapid.IntRange(0, 50).Draw(t, "next")

		book := Book{Copies: start, Available: DeriveAvailable(start)}
		BookPatch{Copies: &next}.ApplyTo(&book, time.Now())
		if book.Available != (next > 0) || book.Copies != next {
			t.Fatalf("copies=%d available=%v", book.Copies, book.Available)
		}

		rec := BookPatch{Copies: &next}.record()
		if rec["available"] != DeriveAvailable(next) {
			t.Fatalf("record wrote available=%v for copies=%d", rec["available"], next)
		}
	})
}

func TestBookPatchRecordLeavesAvailabilityAloneWithoutCopies(t *testing.T) {
	title := "New title"
	rec := BookPatch{Title: &title}.record()

	assert.Equal(t, "New title", rec["title"])
	assert.NotContains(t, rec, "available")
	assert.NotContains(t, rec, "copies")
	assert.Equal(t, goqu.L("NOW()"), rec["updated_at"])
}

func TestBookPatchNormalized(t *testing.T) {
	author, isbn := "terry  pratchett", "0-552-13325-3"
	p := BookPatch{Author: &author, ISBN: &isbn}.Normalized()

	assert.Equal(t, "Terry Pratchett", *p.Author)
	assert.Equal(t, "0552133253", *p.ISBN)
	assert.False(t, p.IsEmpty())
	assert.True(t, BookPatch{}.IsEmpty())
}

func TestGenreValid(t *testing.T) {
	for _, g := range Genres {
		assert.True(t, g.Valid(), g)
	}
	assert.False(t, Genre("Poetry").Valid())
	assert.False(t, Genre("fiction").Valid())
}
