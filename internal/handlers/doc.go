// Package handlers binds a block's class_name to the level policy that
// partitions an entity into children, builds workflow submissions, and runs
// auxiliary scripts.
//
// The Registry is populated at process start. Embedding applications add
// their own handlers with Register before constructing the engine.
package handlers
