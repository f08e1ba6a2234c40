// Command cm drives campaigns through the transition engine: it inserts
// entities, runs the engine operations against a fullname target, prints the
// hierarchy, and runs the per-campaign daemon.
package main
