package backend

import (
	"github.com/goccy/go-json"
)

// Manifest declares resources to bring up at startup. Entries use the
// same properties as the management route for creating resources.
type Manifest struct {
	Resources []ManifestResource `json:"resources"`
}

// ManifestResource declares one dynamic resource
type ManifestResource struct {
	Name    string          `json:"name"`
	Schema  json.RawMessage `json:"schema"`
	Options *Options        `json:"options,omitempty"`
}

// Options tune the generated routes of a single resource. Absent
// properties keep their defaults: all routes enabled, pagination
// enabled with the backend's default page size.
type Options struct {
	Pagination *PaginationOptions `json:"pagination,omitempty"`
	Routes     *RouteOptions      `json:"routes,omitempty"`
}

// PaginationOptions control the list route of a resource
type PaginationOptions struct {
	Enabled *bool `json:"enabled,omitempty"`
	Size    *int  `json:"size,omitempty"`
}

// RouteOptions switch individual generated routes on or off
type RouteOptions struct {
	GetAll    *bool `json:"get_all,omitempty"`
	GetOne    *bool `json:"get_one,omitempty"`
	Create    *bool `json:"create,omitempty"`
	Update    *bool `json:"update,omitempty"`
	DeleteOne *bool `json:"delete_one,omitempty"`
	DeleteAll *bool `json:"delete_all,omitempty"`
}

// routeSet is the resolved set of generated routes for a resource
type routeSet struct {
	getAll    bool
	getOne    bool
	create    bool
	update    bool
	deleteOne bool
	deleteAll bool
}

// pageSettings is the resolved pagination behaviour for a resource
type pageSettings struct {
	enabled bool
	size    int
}

func (o *Options) resolveRoutes() routeSet {
	routes := routeSet{
		getAll:    true,
		getOne:    true,
		create:    true,
		update:    true,
		deleteOne: true,
		deleteAll: true,
	}
	if o == nil || o.Routes == nil {
		return routes
	}
	r := o.Routes
	if r.GetAll != nil {
		routes.getAll = *r.GetAll
	}
	if r.GetOne != nil {
		routes.getOne = *r.GetOne
	}
	if r.Create != nil {
		routes.create = *r.Create
	}
	if r.Update != nil {
		routes.update = *r.Update
	}
	if r.DeleteOne != nil {
		routes.deleteOne = *r.DeleteOne
	}
	if r.DeleteAll != nil {
		routes.deleteAll = *r.DeleteAll
	}
	return routes
}

func (o *Options) resolvePagination(defaultSize, maxSize int) pageSettings {
	page := pageSettings{enabled: true, size: defaultSize}
	if o != nil && o.Pagination != nil {
		p := o.Pagination
		if p.Enabled != nil {
			page.enabled = *p.Enabled
		}
		if p.Size != nil && *p.Size > 0 {
			page.size = *p.Size
		}
	}
	if page.size > maxSize {
		page.size = maxSize
	}
	return page
}
