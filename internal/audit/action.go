package audit

import "strings"

const apiPrefix = "/api/v1"

var actions = map[string]string{
	"POST /master-tokens":                                    "create_master_token",
	"GET /master-tokens":                                     "list_master_tokens",
	"DELETE /master-tokens/{tokenID}":                        "revoke_master_token",
	"POST /master-tokens/{tokenID}/rotate":                   "rotate_master_token",
	"POST /projects":                                         "create_project",
	"GET /projects":                                          "list_projects",
	"GET /projects/{project}":                                "get_project",
	"PATCH /projects/{project}":                              "update_project",
	"DELETE /projects/{project}":                             "delete_project",
	"POST /projects/{project}/tokens":                        "create_token",
	"GET /projects/{project}/tokens":                         "list_tokens",
	"DELETE /projects/{project}/tokens/{tokenID}":            "revoke_token",
	"POST /projects/{project}/secrets":                       "create_secret",
	"GET /projects/{project}/secrets":                        "list_secrets",
	"GET /projects/{project}/secrets/{key}":                  "get_secret",
	"DELETE /projects/{project}/secrets/{key}":               "delete_secret",
	"POST /devices":                                          "register_device",
	"GET /projects/{project}/devices":                        "list_devices",
	"GET /projects/{project}/devices/{deviceID}":             "get_device",
	"GET /projects/{project}/devices/{deviceID}/status":      "get_device_status",
	"PATCH /projects/{project}/devices/{deviceID}/authorize": "authorize_device",
	"PATCH /projects/{project}/devices/{deviceID}/reject":    "reject_device",
	"DELETE /projects/{project}/devices/{deviceID}":          "delete_device",
}

// ActionFor names the operation behind a method and route pattern. Unknown
// routes fall back to the method and path joined with underscores.
func ActionFor(method, route string) string {
	route = strings.TrimPrefix(route, apiPrefix)
	if a, ok := actions[method+" "+route]; ok {
		return a
	}
	path := strings.Trim(strings.ReplaceAll(route, "/", "_"), "_")
	if path == "" {
		return strings.ToLower(method)
	}
	return strings.ToLower(method) + "_" + path
}
