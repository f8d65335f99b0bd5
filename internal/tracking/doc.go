// Package tracking reports funnel milestones to the analytics backend.
//
// A Service holds the dependencies shared by every visit: the backend client,
// the campaign cache and any mirror sinks. Each funnel session gets its own
// Tracker from Service.NewTracker. Tracker methods never return errors;
// analytics is best-effort and a failed call is logged and dropped.
package tracking
