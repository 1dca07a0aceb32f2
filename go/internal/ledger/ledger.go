// Package ledger is the append-once record of notebook pages. Each
// (owner, round) slot accepts exactly one page; later writes are absorbed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/store"
)

var ErrInvalidPage = errors.New("invalid page")

type Ledger struct {
	store store.Store
}

func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Submit writes page into ownerID's notebook at round if the slot is empty
// and the room is still at round. It reports whether this call wrote the
// page; a filled slot or a stale round is not an error.
func (l *Ledger) Submit(ctx context.Context, code string, round int, ownerID string, page models.Page) (bool, error) {
	if err := validate(round, ownerID, page); err != nil {
		return false, err
	}

	path := store.PagePath(code, ownerID, round)
	ok, err := l.store.Update(ctx,
		map[string][]byte{path: store.MustMarshal(page)},
		store.Absent(path),
		store.Equals(store.RoundPath(code), round),
	)
	if err != nil {
		return false, fmt.Errorf("failed to submit page: %w", err)
	}
	return ok, nil
}

// Page reads one slot.
func (l *Ledger) Page(ctx context.Context, code, ownerID string, round int) (models.Page, bool, error) {
	var p models.Page
	err := store.GetJSON(ctx, l.store, store.PagePath(code, ownerID, round), &p)
	if errors.Is(err, store.ErrNotFound) {
		return models.Page{}, false, nil
	}
	if err != nil {
		return models.Page{}, false, err
	}
	return p, true, nil
}

// Books reads every notebook of the room.
func (l *Ledger) Books(ctx context.Context, code string) (map[string]models.Notebook, error) {
	leaves, err := l.store.List(ctx, store.BooksPath(code))
	if err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}

	books := make(map[string]models.Notebook)
	for path, raw := range leaves {
		owner, round, ok := store.ParsePagePath(code, path)
		if !ok {
			continue
		}
		var p models.Page
		if err := store.Unmarshal(path, raw, &p); err != nil {
			return nil, err
		}
		if books[owner] == nil {
			books[owner] = make(models.Notebook)
		}
		books[owner][round] = p
	}
	return books, nil
}

func validate(round int, ownerID string, page models.Page) error {
	switch {
	case round < 0:
		return fmt.Errorf("%w: negative round", ErrInvalidPage)
	case ownerID == "":
		return fmt.Errorf("%w: missing notebook owner", ErrInvalidPage)
	case !page.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPage, page.Type)
	case page.Author == "":
		return fmt.Errorf("%w: missing author", ErrInvalidPage)
	}
	return nil
}
