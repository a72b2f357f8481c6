// Package panel serves the controller's live dashboard as an embedded asset.
//
// The page lists the live sensors with their latest readings from
// /aggregate and then follows the controller's WebSocket feed, so it needs
// nothing besides the API it is served from. Unknown paths fall back to
// index.html.
package panel
