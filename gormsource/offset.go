package gormsource

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Alp4ka/gopagecache"
)

// Window is the LIMIT/OFFSET scope of one page.
type Window struct {
	offset int
	limit  int
}

// NewWindow returns the window of a 1-based page.
func NewWindow(page, pageSize int) *Window {
	return &Window{
		offset: gopagecache.Offset(max(page, gopagecache.FirstPage), pageSize),
		limit:  pageSize,
	}
}

// ToSQL returns the window as "LIMIT n OFFSET m".
//
// Usage:
//
//	query := fmt.Sprintf("SELECT * FROM table ORDER BY id %s", w.ToSQL())
func (w *Window) ToSQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", w.GetLimit(), w.GetOffset())
}

// Apply applies the window to a gorm query.
func (w *Window) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(w.GetOffset()).Limit(w.GetLimit())
}

// GetOffset returns the index of the first row of the window.
func (w *Window) GetOffset() int {
	if w != nil {
		return w.offset
	}

	return 0
}

// GetLimit returns the window size.
func (w *Window) GetLimit() int {
	if w != nil {
		return w.limit
	}

	return 0
}

// WithOffset sets the offset and returns the window.
func (w *Window) WithOffset(offset int) *Window {
	if w == nil {
		w = new(Window)
	}

	w.offset = offset

	return w
}

// WithLimit sets the limit and returns the window.
func (w *Window) WithLimit(limit int) *Window {
	if w == nil {
		w = new(Window)
	}

	w.limit = limit

	return w
}

func (w *Window) validate() error {
	if w.GetOffset() < 0 {
		return fmt.Errorf("negative offset %d", w.GetOffset())
	}
	if w.GetLimit() <= 0 {
		return fmt.Errorf("non-positive limit %d", w.GetLimit())
	}

	return nil
}
