// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeadlineLayout renders due dates in borrow confirmations.
const DeadlineLayout = "Mon Jan 02 2006"

// Borrow represents one recorded borrow of a book.
type Borrow struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BookID    uuid.UUID `json:"book" db:"book_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	DueDate   time.Time `json:"dueDate" db:"due_date"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// BorrowRequest is the input for recording a borrow.
type BorrowRequest struct {
	BookID   uuid.UUID
	Quantity int
	DueDate  time.Time
}

// BorrowResult is a committed borrow plus its confirmation message.
type BorrowResult struct {
	Borrow  Borrow `json:"borrow"`
	Message string `json:"message"`
}

// Confirmation is the message returned for a committed borrow.
func Confirmation(dueDate time.Time) string {
	return fmt.Sprintf("New borrow recorded. Deadline is: %s", dueDate.Format(DeadlineLayout))
}

// BorrowRecordedEvent is the payload of the BorrowRecorded event.
type BorrowRecordedEvent struct {
	BorrowID      uuid.UUID `json:"borrowId"`
	BookID        uuid.UUID `json:"bookId"`
	Quantity      int       `json:"quantity"`
	DueDate       time.Time `json:"dueDate"`
	CopiesLeft    int       `json:"copiesLeft"`
	BookAvailable bool      `json:"bookAvailable"`
}

// BookRef identifies a book in the summary.
type BookRef struct {
	Title string `json:"title" db:"title"`
	ISBN  string `json:"isbn" db:"isbn"`
}

// SummaryRow is the total quantity borrowed of one book.
type SummaryRow struct {
	Book          BookRef `json:"book" db:"book"`
	TotalQuantity int     `json:"totalQuantity" db:"total_quantity"`
}
