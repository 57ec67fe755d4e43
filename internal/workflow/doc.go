// Package workflow emits finalized job graphs as workflow documents.
//
// A document is assembled from a Skeleton of named slots (name, on,
// concurrency, permissions, env, jobs, pipeline_exit_status). Each slot is
// a function producing default content; an override replaces it and can
// reach the default through SlotContext.Super.
package workflow
