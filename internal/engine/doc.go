// Package engine drives campaign entities through their lifecycle.
//
// Every operation loads a target by fullname, walks the part of the tree it
// concerns with an explicit worklist, applies status changes in short store
// transactions, and re-folds parent statuses bottom-up before returning.
// External calls (job submission, polling, scripts) never run while a
// transaction is open.
package engine
