// Package provider wraps the WhatsApp gateway's REST API.
//
// The gateway hosts one session per credential (API key). warelay only needs
// three things from it: a connection-status probe and single-destination sends
// (text, image, or both). Every call carries a bounded timeout.
//
// Errors
//
// Failed calls return *provider.Error with a Kind classified from the HTTP
// status code. Callers branch on the kind (most importantly KindRateLimited),
// never on the message text.
package provider
