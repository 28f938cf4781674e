/*
Package scheduler drives time-based training and retention.

Most training cycles are event-driven: the API evaluates the trigger policy
after every ingest and upload. The scheduler covers the remaining cases
with a wall-clock loop checked once a minute:

  - a daily training evaluation at the configured quiet hour (02:00 by
    default), using the catch-up policy that can train on new data alone
  - a weekly retention sweep removing model versions beyond the retention
    count

The daily evaluation runs at most once per calendar day. A failed
evaluation backs the whole loop off for five minutes and reruns the check
afterwards if the window has not passed, so a transiently broken store
does not cost a day of training.
*/
package scheduler
