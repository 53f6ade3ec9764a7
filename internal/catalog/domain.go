// internal/catalog/domain.go
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"librarium/internal/liberr"
)

// ErrBookNotFound is wrapped by every lookup that misses.
var ErrBookNotFound = errors.New("book not found")

// Genre is the closed set of catalog genres.
type Genre string

const (
	GenreFiction       Genre = "Fiction"
	GenreNonFiction    Genre = "Non-fiction"
	GenreScience       Genre = "Science"
	GenreHistory       Genre = "History"
	GenreBiography     Genre = "Biography"
	GenreFantasy       Genre = "Fantasy"
	GenreUncategorized Genre = "Uncategorized"
)

// Genres lists every valid genre.
var Genres = []Genre{
	GenreFiction,
	GenreNonFiction,
	GenreScience,
	GenreHistory,
	GenreBiography,
	GenreFantasy,
	GenreUncategorized,
}

// Valid reports whether g is one of Genres.
func (g Genre) Valid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// Book represents one catalog title.
type Book struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Author      string    `json:"author" db:"author"`
	Genre       Genre     `json:"genre" db:"genre"`
	ISBN        string    `json:"isbn" db:"isbn"`
	Description string    `json:"description" db:"description"`
	Copies      int       `json:"copies" db:"copies"`
	Available   bool      `json:"available" db:"available"`
	ImageURI    *string   `json:"imageURI,omitempty" db:"image_uri"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// NewBook is the input for stocking a title.
type NewBook struct {
	Title       string
	Author      string
	Genre       Genre
	ISBN        string
	Description string
	Copies      int
	ImageURI    *string
}

// Book builds the normalised entity. Available is derived from Copies.
func (n NewBook) Book(id uuid.UUID, now time.Time) Book {
	genre := n.Genre
	if genre == "" {
		genre = GenreUncategorized
	}
	return Book{
		ID:          id,
		Title:       strings.TrimSpace(n.Title),
		Author:      NormalizeAuthor(n.Author),
		Genre:       genre,
		ISBN:        NormalizeISBN(n.ISBN),
		Description: n.Description,
		Copies:      n.Copies,
		Available:   DeriveAvailable(n.Copies),
		ImageURI:    n.ImageURI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// BookPatch is the only shape in which a stored book is modified. Nil fields
// are left untouched. It has no Available field; availability is derived from
// Copies whenever Copies is written.
type BookPatch struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Genre       *Genre  `json:"genre,omitempty"`
	ISBN        *string `json:"isbn,omitempty"`
	Description *string `json:"description,omitempty"`
	Copies      *int    `json:"copies,omitempty"`
	ImageURI    *string `json:"imageURI,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Genre == nil && p.ISBN == nil &&
		p.Description == nil && p.Copies == nil && p.ImageURI == nil
}

// Normalized applies the same normalisation as NewBook.Book.
func (p BookPatch) Normalized() BookPatch {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		p.Title = &title
	}
	if p.Author != nil {
		author := NormalizeAuthor(*p.Author)
		p.Author = &author
	}
	if p.ISBN != nil {
		isbn := NormalizeISBN(*p.ISBN)
		p.ISBN = &isbn
	}
	return p
}

// ApplyTo mutates b in place. Writing Copies always recomputes Available from
// the post-write value.
func (p BookPatch) ApplyTo(b *Book, now time.Time) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Copies != nil {
		b.Copies = *p.Copies
		b.Available = DeriveAvailable(*p.Copies)
	}
	if p.ImageURI != nil {
		b.ImageURI = p.ImageURI
	}
	b.UpdatedAt = now
}

// record is the column set persisted for p. It mirrors ApplyTo: copies and
// available are always written together.
func (p BookPatch) record() goqu.Record {
	rec := goqu.Record{"updated_at": goqu.L("NOW()")}
	if p.Title != nil {
		rec["title"] = *p.Title
	}
	if p.Author != nil {
		rec["author"] = *p.Author
	}
	if p.Genre != nil {
		rec["genre"] = string(*p.Genre)
	}
	if p.ISBN != nil {
		rec["isbn"] = *p.ISBN
	}
	if p.Description != nil {
		rec["description"] = *p.Description
	}
	if p.Copies != nil {
		rec["copies"] = *p.Copies
		rec["available"] = DeriveAvailable(*p.Copies)
	}
	if p.ImageURI != nil {
		rec["image_uri"] = *p.ImageURI
	}
	return rec
}

// DeriveAvailable is the single availability rule.
func DeriveAvailable(copies int) bool {
	return copies > 0
}

// NormalizeISBN strips hyphens and whitespace.
func NormalizeISBN(isbn string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, isbn)
}

// NormalizeAuthor title-cases an author name. Whitespace is collapsed and
// every dot-separated initial is capitalised ("j.r.r. tolkien" becomes
// "J.R.R. Tolkien").
func NormalizeAuthor(author string) string {
	words := strings.Fields(strings.ToLower(author))
	for i, word := range words {
		if strings.Contains(word, ".") {
			parts := strings.Split(word, ".")
			for j, part := range parts {
				parts[j] = capitalize(part)
			}
			words[i] = strings.Join(parts, ".")
			continue
		}
		words[i] = capitalize(word)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if size == 0 {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}

// Sort orders for listings.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultResultsPerPage applies when a filter does not set a page size.
const DefaultResultsPerPage = 10

// PageSizes are the accepted page sizes.
var PageSizes = []int{10, 20, 50, 100}

// Filter selects a page of books.
type Filter struct {
	Author         string
	Genre          Genre
	Available      *bool
	SortBy         string
	ResultsPerPage int
	Page           int
}

// Page is one page of a listing plus the total number of matches.
type Page struct {
	Books []Book `json:"books"`
	Total int    `json:"total"`
}

// NotFound builds the not-found error for id.
func NotFound(id uuid.UUID) error {
	return liberr.Wrap(liberr.KindNotFound, ErrBookNotFound, fmt.Sprintf("Book with bookId: %s not found!", id))
}
