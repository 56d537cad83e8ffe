// Package i18n resolves localized strings, such as the 404 page title,
// against a request's Accept-Language header.
package i18n
