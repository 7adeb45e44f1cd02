package selector

import (
	"encoding/json"
	"fmt"
	"strings"

	"walkable-city/query"
)

// SystemPrompt 列出菜单、参数定义和当前地点的可用类别
func SystemPrompt(menu query.Menu) string {
	var b strings.Builder
	b.WriteString("You translate a walking or place question into exactly one operation call.\n")
	if menu.Location != "" {
		fmt.Fprintf(&b, "Current location: %s.\n", menu.Location)
	}
	b.WriteString("Coordinates already resolved in the question appear as (lat X, lon Y); use those numbers directly.\n\n")
	b.WriteString("Operations:\n")
	for _, op := range menu.Operations {
		schema, _ := json.Marshal(op.Schema())
		fmt.Fprintf(&b, "- %s: %s\n  arguments: %s\n", op.Name, op.Description, schema)
	}
	if len(menu.Categories) > 0 {
		fmt.Fprintf(&b, "\nValid feature categories: %s\n", strings.Join(menu.Categories, ", "))
	}
	b.WriteString("\nReply with only a JSON object: {\"name\": \"<operation>\", \"arguments\": {...}}\n")
	return b.String()
}
