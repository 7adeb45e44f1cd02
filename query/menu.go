package query

// Param 操作参数定义
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // number|integer|string|array
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// OperationSpec 菜单中的一项: 名称、说明和参数
type OperationSpec struct {
	Name        Operation `json:"name"`
	Description string    `json:"description"`
	Params      []Param   `json:"params"`

	new func() any
}

// Schema 以 JSON Schema 的形式描述参数，用于提示词
func (s OperationSpec) Schema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// Menu 传给选择器的操作菜单，附带当前地点的可用类别
type Menu struct {
	Operations []OperationSpec `json:"operations"`
	Categories []string        `json:"categories"`
	Location   string          `json:"location"`
}

func num(name, desc string, required bool) Param {
	return Param{Name: name, Type: "number", Description: desc, Required: required}
}

var operations = []OperationSpec{
	{
		Name:        OpGeocodeLookup,
		Description: "Get coordinates for a named place or landmark.",
		Params: []Param{
			{Name: "place_name", Type: "string", Description: "Place or landmark name", Required: true},
		},
		new: func() any { return &GeocodeLookupRequest{} },
	},
	{
		Name:        OpListNearbyFeatures,
		Description: "List features of one category near a point, ordered by straight-line distance.",
		Params: []Param{
			{Name: "category", Type: "string", Description: "Feature category, e.g. hospital", Required: true},
			num("lat", "Latitude of the center", true),
			num("lon", "Longitude of the center", true),
			num("radius_m", "Search radius in meters (default 1000)", false),
			{Name: "limit", Type: "integer", Description: "Maximum number of results (default 20)"},
		},
		new: func() any { return &ListNearbyRequest{} },
	},
	{
		Name:        OpCountFeatures,
		Description: "Count features within a radius. Use category for one type or categories for several.",
		Params: []Param{
			{Name: "category", Type: "string", Description: "Single feature category"},
			{Name: "categories", Type: "array", Description: "Several feature categories counted in one pass"},
			num("lat", "Latitude of the center", true),
			num("lon", "Longitude of the center", true),
			num("radius_m", "Radius in meters (default 1000)", false),
		},
		new: func() any { return &CountFeaturesRequest{} },
	},
	{
		Name:        OpNearestByWalking,
		Description: "Find the nearest features of a category by real walking distance on the street network, with the walking path to the closest one.",
		Params: []Param{
			{Name: "category", Type: "string", Description: "Feature category", Required: true},
			num("lat", "Latitude of the origin", true),
			num("lon", "Longitude of the origin", true),
			{Name: "limit", Type: "integer", Description: "Number of results (default 3)"},
			num("search_radius_m", "Straight-line radius for candidates (default 5000)", false),
		},
		new: func() any { return &NearestByWalkingRequest{} },
	},
	{
		Name:        OpComputeRoute,
		Description: "Walking route between two points with distance and walking time.",
		Params: []Param{
			num("start_lat", "Start latitude", true),
			num("start_lon", "Start longitude", true),
			num("end_lat", "End latitude", true),
			num("end_lon", "End longitude", true),
		},
		new: func() any { return &RouteRequest{} },
	},
	{
		Name:        OpComputeIsochrone,
		Description: "Area reachable on foot within a number of minutes.",
		Params: []Param{
			num("lat", "Latitude of the origin", true),
			num("lon", "Longitude of the origin", true),
			num("max_minutes", "Walking time budget in minutes", true),
		},
		new: func() any { return &IsochroneRequest{} },
	},
	{
		Name:        OpFeaturesAlongRoute,
		Description: "Features within a buffer of the walking route between two points, in the order they are passed.",
		Params: []Param{
			num("start_lat", "Start latitude", true),
			num("start_lon", "Start longitude", true),
			num("end_lat", "End latitude", true),
			num("end_lon", "End longitude", true),
			{Name: "category", Type: "string", Description: "Feature category (optional, any when empty)"},
			num("buffer_m", "Buffer around the route in meters (default 200)", false),
		},
		new: func() any { return &AlongRouteRequest{} },
	},
}

var byName = func() map[Operation]OperationSpec {
	m := make(map[Operation]OperationSpec, len(operations))
	for _, op := range operations {
		m[op.Name] = op
	}
	return m
}()

// Operations 完整菜单 (固定顺序)
func Operations() []OperationSpec {
	out := make([]OperationSpec, len(operations))
	copy(out, operations)
	return out
}

// Lookup 按名称查找菜单项
func Lookup(name Operation) (OperationSpec, bool) {
	spec, ok := byName[name]
	return spec, ok
}
