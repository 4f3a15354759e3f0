// Package google provides OAuth2 credentials for the Gmail API.
//
// Authorizer reads an installed-application client secret file, runs the
// consent flow once (AuthCodeURL, then Exchange) and keeps the resulting token
// in a JSON file readable only by the owner. The HTTP client it returns
// refreshes the access token on demand and writes every refreshed token back
// to the file.
package google
