// Package gmail adapts the Gmail API to the pipeline.
//
// Client lists and fetches messages (converted to the message package's part
// tree), manages labels for the labels package, and sends replies composed
// as RFC 5322 messages. Every call is rate limited on the client side, traced
// and recorded in the Google API metrics.
//
// Example usage:
//
//	httpClient, err := authorizer.HTTPClient(ctx)
//	if err != nil {
//	    return err
//	}
//	client, err := gmail.NewClient(ctx, gmail.Config{}, logger, metrics,
//	    option.WithHTTPClient(httpClient))
//	if err != nil {
//	    return err
//	}
//	ids, err := client.ListMessages(ctx, "in:inbox -label:PROCESSED", 10)
package gmail
