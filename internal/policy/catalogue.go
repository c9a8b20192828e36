// Package policy exposes the core's policy and data operations over HTTP.
package policy

import (
	"net/http"

	"github.com/privadome/privadome-api/internal/gateway"
)

// Operation maps one HTTP route to a named core call.
type Operation struct {
	Name   string
	Method string
	Path   string
	RPC    string
	Port   gateway.Port
	// BodyRequired forwards the request body as the call argument.
	BodyRequired bool
}

// Catalogue lists the fixed policy operations. Tile data is dispatched
// separately because its RPC name comes from the request.
var Catalogue = []Operation{
	{Name: "module_config", Method: http.MethodGet, Path: "/modules/config", RPC: "read_state", Port: gateway.PortPolicy},
	{Name: "module_schema", Method: http.MethodGet, Path: "/modules/info", RPC: "get_module_configs", Port: gateway.PortPolicy},
	{Name: "add_policy_group", Method: http.MethodPost, Path: "/modules/addpolicy/group", RPC: "add_group", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "add_policy_address", Method: http.MethodPost, Path: "/modules/addpolicy/address", RPC: "add_client", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "delete_policy_group", Method: http.MethodPost, Path: "/modules/deletepolicy/group", RPC: "delete_group", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "delete_policy_address", Method: http.MethodPost, Path: "/modules/deletepolicy/address", RPC: "delete_client", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "update_policy_network", Method: http.MethodPost, Path: "/modules/updatepolicy/network", RPC: "update_network_policy", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "update_policy_group", Method: http.MethodPost, Path: "/modules/updatepolicy/group", RPC: "update_group_policy", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "update_policy_address", Method: http.MethodPost, Path: "/modules/updatepolicy/address", RPC: "update_client_policy", Port: gateway.PortPolicy, BodyRequired: true},
	{Name: "proctest", Method: http.MethodGet, Path: "/proctest", RPC: "read_state", Port: gateway.PortPolicy},
}

// TilesPath is the route for tile data requests.
const TilesPath = "/tiles/data"

// Lookup returns the catalogue entry named name.
func Lookup(name string) (Operation, bool) {
	for _, op := range Catalogue {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}
