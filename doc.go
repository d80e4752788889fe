// Package fondy fronts the Fondy card gateway's hosted checkout. It builds
// signed checkout requests, redirects the buyer's browser to the page the
// gateway returns, and verifies the gateway's asynchronous payment
// notifications.
//
// # Purchases
//
// A [RequestBuilder] turns an inbound item id into a signed parameter set,
// pricing it through a [Catalog]. A [Client] submits the set to the checkout
// URL endpoint and decodes the success or failure envelope. [Flow] sequences
// the two for each attempt and reports the result as an [Attempt] that ends
// redirected or rejected.
//
// # Notifications
//
// [NotificationProcessor] verifies the signature of every server callback
// with the merchant password and hands final statuses to a
// [NotificationConsumer] at most once per order, using a [NotificationStore]
// for idempotency. [WebhookForwarder] is a consumer that relays verified
// notifications to a fulfilment endpoint.
//
// # HTTP
//
// [NewHandler] exposes POST /buy, the server callback and the browser
// callback over net/http. Options such as [WithCallbackAuthenticator] and
// [WithMiddleware] add a source allowlist and custom middleware.
//
// The signature package holds the signing algorithm itself and can be used
// on its own.
package fondy
