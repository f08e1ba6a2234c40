// Package execution is the boundary to whatever actually runs a workflow's
// payload. The transition engine depends only on Adapter; the live
// CommandAdapter runs shell payloads detached and reports through stamp
// files, while Simulation answers immediately with a configured status.
package execution
