// Package model defines the normalized language-model backend contract
// (Request, Response, Model) plus a scripted MockModel. Provider adapters
// live in subpackages (openai, anthropic) so the core never imports vendor
// SDKs directly.
package model
