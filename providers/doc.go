// Package providers contains the OAuth2 authorization-code client and the JSON
// API client shared by the provider adapters in its subpackages.
package providers
