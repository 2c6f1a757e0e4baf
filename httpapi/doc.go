// Package httpapi exposes a drinks.Store over HTTP.
//
// GET /drinks is public and returns the short form of every drink. The
// detailed listing and every mutation require a bearer token granting the
// matching permission:
//
//	GET    /drinks-detail   get:drinks-detail
//	POST   /drinks          post:drinks
//	PATCH  /drinks/{id}     patch:drinks
//	DELETE /drinks/{id}     delete:drinks
//
// Successful responses carry "success": true. Failures use the envelope
// {"success":false,"error":<status>,"message":"..."}; authorization failures
// are always 401 and add a "code" member naming the cause.
//
// Every response carries an X-Request-Id header and permissive CORS headers.
package httpapi
