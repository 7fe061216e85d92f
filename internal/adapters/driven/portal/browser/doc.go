// Package browser implements the portal transport with a headless Chrome
// driven through Rod.
//
// Sign-in fills the portal's login form, then the one-time code form, and
// waits for the dashboard. Case payloads are fetched from inside the
// authenticated page so the portal sees an ordinary browser request. Every
// account gets its own incognito context.
//
// Browser and network failures wrap domain.ErrTransient; non-success API
// responses are returned as *domain.PortalError.
package browser
