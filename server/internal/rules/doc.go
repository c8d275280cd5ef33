// Package rules is the configuration-driven Rule Evaluator.
//
// An events file (YAML) defines named events such as "Status" or
// "Program Status". Each event lists responses in priority order; a response
// fires when every one of its triggers matches the current value of some
// signal selected by the trigger's filter. When no response fires the
// event's default applies.
//
//	events:
//	  - name: Status
//	    default: {value: Inactive}
//	    responses:
//	      - value: Active
//	        triggers:
//	          - filter: Controller/Path/Execution
//	            value: ACTIVE
//
// Filters are "/"-separated: the last segment matches a signal ID or type
// (case-insensitive, "_" ignored), earlier segments match the types of the
// signal's ancestor components, nearest first.
//
// Registry holds the process-wide configuration: loaded once, immutable,
// replaced only by an explicit Reload (admin endpoint or opt-in file watch).
package rules
