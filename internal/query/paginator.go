package query

const DefaultMaxLimit = 1000

// Select describes read query parts built by compiler, ordering and paginator
// Zero Limit means no limit
type Select struct {
	Where   Where
	OrderBy OrderBy
	Offset  int
	Limit   int
}

// Page is 1-indexed page request
type Page struct {
	Page  int
	Limit int
}

// Paginator converts pages into offset and limit clamped by MaxLimit
type Paginator struct {
	maxLimit int
}

func NewPaginator(maxLimit int) *Paginator {
	if maxLimit < 1 {
		panic("paginator max limit must be positive")
	}
	return &Paginator{maxLimit: maxLimit}
}

func (p *Paginator) MaxLimit() int {
	return p.maxLimit
}

// Window returns offset and effective limit for the page
// Page and limit below 1 are treated as 1
func (p *Paginator) Window(page Page) (offset int, limit int) {
	limit = min(p.maxLimit, max(page.Limit, 1))
	offset = (max(page.Page, 1) - 1) * limit
	return offset, limit
}

// Paginate sets offset and limit on the select.
// Nil page means pagination was not requested and select is returned as is.
func (p *Paginator) Paginate(sel Select, page *Page) Select {
	if page == nil {
		return sel
	}
	sel.Offset, sel.Limit = p.Window(*page)
	return sel
}
