// Package blocks loads YAML configuration documents made of named blocks and
// resolves a block into an immutable record.
//
// A block may list other blocks under `includes`; their bodies are merged in
// listed order (first lowest precedence) before the block's own fields are
// applied. Template strings under `templates` are expanded against an entity's
// fullname and its campaign's root collection.
package blocks
