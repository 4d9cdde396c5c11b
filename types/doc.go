// Package types defines the shared data model of the surveyflow pipeline:
// personas, proxy bindings, question traces, scout experiences, questionnaire
// intelligence, and the unified error codes used across packages.
//
// Types here are plain records with JSON tags. They carry no behavior beyond
// cloning and classification helpers, so every package can depend on them
// without import cycles.
package types
