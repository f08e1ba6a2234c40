// Package hierarchy defines the campaign entity tree: levels, statuses,
// fullname rules, and the propagation fold that derives a parent's status
// from its active children.
//
// Nothing here performs I/O. The store persists these types and the engine
// drives them through transitions.
package hierarchy
