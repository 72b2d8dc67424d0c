package cabinet

import "time"

// Site represents a physical property served by Ostiary.
// There is typically one site per deployment.
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cabinet represents one bank of locker doors at a site.
// Doors reference their cabinet; deleting a cabinet with doors is refused.
type Cabinet struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Location  *string   `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
