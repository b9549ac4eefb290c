// Package geoloc resolves where a proxy actually exits the network.
//
// No single free geolocation service is trustworthy alone: databases
// disagree, lag behind relay churn, and occasionally return garbage.
// The package therefore queries several independent services through
// the proxy under test and feeds their answers into a weighted-vote
// consensus engine. Country and city consensus require a configurable
// vote share; coordinates reach consensus only when the reported
// points cluster within a distance threshold of their centroid.
package geoloc
