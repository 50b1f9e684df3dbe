// Package filter implements response body filters for the proxy.
//
// A ContentFilter is created per response by the Selector, which looks up
// the rule registered for the response MIME type and request URL in an
// immutable Registry. Filters built on Base accumulate chunked bodies and
// transform them once in End, or transform each chunk as it is read when
// the body is not chunked. Parsing filters (html, json) run their
// transforms in a bounded Pool.
//
// Built-in filter ids:
//
//	identity   pass-through
//	html       x/net/html document filters (html.drop_elements, html.drop_links)
//	json       JSON object filters (json.drop_elements, json.element_handler)
//	text       string filters (text.replace, text.upper, text.lower)
package filter
