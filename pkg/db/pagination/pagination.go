package pagination

// Pagination is the page-based paging contract of the admin list endpoints.
type Pagination struct {
	Page  int `form:"page,default=1" validate:"gte=1"`
	Limit int `form:"limit,default=20" validate:"gte=1,lte=250"`
}

type PageInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalRows  int64 `json:"total_rows"`
	TotalPages int   `json:"total_pages"`
}

// Normalize clamps page and limit into their legal ranges.
func (p *Pagination) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 250 {
		p.Limit = 250
	}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func BuildPageInfo(p Pagination, total int64) *PageInfo {
	pages := int(total) / p.Limit
	if int(total)%p.Limit != 0 {
		pages++
	}
	return &PageInfo{
		Page:       p.Page,
		Limit:      p.Limit,
		TotalRows:  total,
		TotalPages: pages,
	}
}
