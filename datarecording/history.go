package datarecording

import "context"

// HistoryFilter narrows the history queries. Empty fields match everything.
type HistoryFilter struct {
	Session   string
	Processor string
	Kind      string

	// Limit caps the number of entries. Zero returns all of them.
	Limit int
}

func (f HistoryFilter) match() map[string]any {
	m := make(map[string]any)

	if f.Session != "" {
		m["Session"] = f.Session
	}

	if f.Processor != "" {
		m["Processor"] = f.Processor
	}

	if f.Kind != "" {
		m["Kind"] = f.Kind
	}

	return m
}

// Requests returns recorded requests, most recent first.
func Requests(
	ctx context.Context,
	r DataReader,
	f HistoryFilter,
) ([]RequestEntry, error) {
	r.MapTable(RequestTable, RequestEntry{})

	rows, _, err := r.Query(ctx, RequestTable, Filter{
		Match:   f.match(),
		OrderBy: "StartTime",
		Desc:    true,
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]RequestEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row.(*RequestEntry))
	}

	return entries, nil
}

// Transfers returns recorded transfers in the order they completed.
func Transfers(
	ctx context.Context,
	r DataReader,
	f HistoryFilter,
) ([]TransferEntry, error) {
	r.MapTable(TransferTable, TransferEntry{})

	rows, _, err := r.Query(ctx, TransferTable, Filter{
		Match:   f.match(),
		OrderBy: "Time",
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]TransferEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row.(*TransferEntry))
	}

	return entries, nil
}
