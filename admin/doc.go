// Package admin implements the privileged command surface of the router.
//
// Admin payloads come in two shapes:
//
//	<token> status|reset|room <name>|users|plugins|help|sweep
//	<token> plugin enable|disable|remove <name>
//	<token> memory <user> [query]
//
// and a structured plugin upload:
//
//	{"action":"plugin_upload","token":"...","name":"...","source":"...","triggers":["user_join"]}
//
// Both shapes are authenticated with the same token. A wrong token never
// reaches a command handler and yields a security-typed denial.
package admin
