// Package services holds the clients for the external systems the pipeline
// depends on: the telephony media host, the audio blob store, the AI
// provider, and the completion callback API. Each client classifies its
// failures so the pipeline can pick the right disposition.
package services
