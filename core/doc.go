// Package core provides the foundational domain types used by AgentCouncil.
// It defines:
//
//   - Turns (immutable, ordered contributions to a session's conversation)
//   - The ConversationLog (append-only, gapless, shared by every agent in a session)
//   - Backend invocation records attached to the turn that requested them
//   - The error taxonomy shared by the registry, bridge, router, coordinator
//     and workflow components
//
// The package intentionally keeps implementation concerns (persistence,
// coordination, concrete agents) out of scope, exposing small types so the
// higher layers can compose them. Each session owns exactly one
// ConversationLog; there are no process-wide singletons.
package core
