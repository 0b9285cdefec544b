package main

// StatusCommand is the payload sent to the worker queue. It either moves an
// order into a status, named by id or slug, or re-projects the order's latest
// activity onto its status when Reconcile is set.
type StatusCommand struct {
	OrderID    string `json:"order_id"`
	StatusID   string `json:"status_id,omitempty"`
	StatusSlug string `json:"status_slug,omitempty"`
	Note       string `json:"note,omitempty"`
	Reconcile  bool   `json:"reconcile,omitempty"`
}
