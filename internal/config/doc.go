// Package config provides configuration management for the filter proxy.
//
// Configuration is read from a YAML file (JSON files such as proxy.json
// are accepted as well since JSON is valid YAML). ${VAR} and
// ${VAR:-default} placeholders are substituted from the environment
// before parsing, and a small set of environment variables override
// file values after parsing:
//
//	PORT        listen port of the proxy
//	HTTP_PROXY  upstream forward proxy (enables useProxy)
//
// # Filter Rules
//
// The filters list is ordered. Rules for the same MIME type are
// evaluated in the order they appear in the file:
//
//	filters:
//	  - mimeType: text/html
//	    path: "*"
//	    filter: html
//	    subfilters:
//	      - filter: html.drop_elements
//	        parameters:
//	          name: body
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and invokes a
// callback with every successfully loaded and validated configuration.
package config
