// Package mailer composes outbound email from stored templates.
//
// A send looks up a Template, validates the caller's JSON payload against
// the template's JSON Schema, renders subject, plain-text and HTML bodies
// with the liquid engine, maps template and request headers onto an
// email.Message and hands it to a provider.
//
// Templates can reference inline images by filename through the
// inline_image tag and the has_inline_image operator, and can include
// reusable partials with the partial tag. Inline images are addressed by the
// SHA-256 of their content so identical files attach once.
package mailer
