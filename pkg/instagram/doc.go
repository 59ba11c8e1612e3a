// Package instagram is a client for the private mobile API used to manage
// follow relationships.
//
// Every request carries the mobile client headers and the three session
// cookies. Responses are classified in one place into typed errors from
// instaclean/pkg/errors:
//
//	429                         -> ErrorTypeRateLimit
//	401, 403, checkpoint (400)  -> ErrorTypeAuth
//	404                         -> ErrorTypeNotFound
//	network failure             -> ErrorTypeNetwork (retried)
//	5xx                         -> ErrorTypeServerError (retried)
//
// Example usage:
//
//	client := instagram.NewClient(creds, instagram.Options{Logger: log})
//
//	user, err := client.ResolveUser(ctx, "alice")
//	switch {
//	case errors.IsNotFound(err):
//		// no such account
//	case errors.IsAbort(err):
//		// stop the batch
//	}
//
//	rel, err := client.FriendshipStatus(ctx, user.ID)
package instagram
