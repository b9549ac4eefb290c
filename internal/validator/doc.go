// Package validator implements the five validation layers that grade a
// proxy record: connectivity, performance, geolocation, anonymity, and
// reliability. Each layer produces a score in [0, 100]; the
// comprehensive validator combines them into a weighted overall score,
// a letter grade, and a usage recommendation.
//
// Layers are fail-soft: a probe failure is recorded in the layer result
// and lowers the score, it never aborts the validation pass. Only a
// record that cannot be dialed at all (invalid address, unknown
// protocol) fails validation outright.
package validator
