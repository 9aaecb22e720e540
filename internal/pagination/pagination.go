package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/usagedeck/usagedeck/internal/config"
)

// Sort orders accepted by the breakdown endpoints.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

var (
	ErrInvalidPage    = errors.New("invalid page")
	ErrInvalidPerPage = errors.New("invalid page size")
	ErrInvalidSort    = errors.New("invalid sort column")
)

// State is the page/sort tuple encoded into every breakdown query.
type State struct {
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
}

// CacheKey returns the canonical serialization used for cache identity.
func (s State) CacheKey() string {
	return fmt.Sprintf("p:%d|pp:%d|sb:%s|so:%s", s.Page, s.PerPage, s.SortBy, s.SortOrder)
}

// Query returns the query parameters the breakdown endpoints expect.
func (s State) Query() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(s.Page))
	v.Set("limit", strconv.Itoa(s.PerPage))
	v.Set("sortBy", s.SortBy)
	v.Set("sortOrder", s.SortOrder)
	return v
}

// Controller owns one breakdown table's pagination state. Filter changes are
// the composing session's business: it must call Reset when the FilterSet
// moves; the controller never watches filters itself.
type Controller struct {
	cfg     config.PaginationConfig
	allowed []int
	state   State
}

// NewController builds a controller seeded with the configured initial state.
func NewController(cfg config.PaginationConfig) *Controller {
	c := &Controller{cfg: cfg, allowed: cfg.PerPageOptions}
	if len(c.allowed) == 0 {
		c.allowed = config.PerPageChoices
	}
	c.state = c.initial()
	return c
}

func (c *Controller) initial() State {
	per := c.cfg.PerPage
	if !slices.Contains(c.allowed, per) {
		per = 50
	}
	sortBy := strings.TrimSpace(c.cfg.SortBy)
	if sortBy == "" {
		sortBy = "cost"
	}
	order := c.cfg.SortOrder
	if order != OrderAsc {
		order = OrderDesc
	}
	return State{Page: 1, PerPage: per, SortBy: sortBy, SortOrder: order}
}

// State returns the current tuple.
func (c *Controller) State() State { return c.state }

// SetPage moves to the requested page.
func (c *Controller) SetPage(page int) (State, error) {
	if page < 1 {
		return c.state, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	c.state.Page = page
	return c.state, nil
}

// SetPerPage changes the page size and returns to the first page.
func (c *Controller) SetPerPage(per int) (State, error) {
	if !slices.Contains(c.allowed, per) {
		return c.state, fmt.Errorf("%w: %d", ErrInvalidPerPage, per)
	}
	c.state.PerPage = per
	c.state.Page = 1
	return c.state, nil
}

// SetSort sorts by the column. Selecting the current column again flips the
// direction; a new column starts descending. Either way the view returns to
// the first page.
func (c *Controller) SetSort(column string) (State, error) {
	column = strings.TrimSpace(column)
	if column == "" {
		return c.state, ErrInvalidSort
	}
	if column == c.state.SortBy {
		if c.state.SortOrder == OrderDesc {
			c.state.SortOrder = OrderAsc
		} else {
			c.state.SortOrder = OrderDesc
		}
	} else {
		c.state.SortBy = column
		c.state.SortOrder = OrderDesc
	}
	c.state.Page = 1
	return c.state, nil
}

// Reset restores the configured initial state.
func (c *Controller) Reset() State {
	c.state = c.initial()
	return c.state
}
