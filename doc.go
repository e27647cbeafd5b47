// Package identity manages the signed in session of an application that
// delegates authentication to an external identity provider.
//
// Session state:
//   - Observer registers once with the provider client and republishes every
//     change as a Session snapshot (Unknown, Anonymous or Authenticated).
//     Subscribers get the current snapshot right away and then every change,
//     in provider order.
//
// Operations:
//   - Gateway exposes sign up, sign in, popup sign-in, sign out, password
//     change and password reset. Operations return an acknowledgment; the
//     session itself only changes through the Observer.
//   - Each operation class allows one pending call. A second call for a
//     pending class fails with KindOperationAlreadyPending instead of queueing.
//
// Errors:
//   - Every failure is a *goerrors.Error whose TextCode is one of the
//     ErrorKind values. Provider adapters report ProviderError values with a
//     canonical code and NormalizeError maps them into the taxonomy.
//
// Activity sinks:
//   - ActivitySink receives audit events for every operation and session
//     change. Sinks run best-effort (errors are logged) so you can forward to
//     a database, a metrics collector or a queue without blocking sign-in.
package identity
