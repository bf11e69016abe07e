// Package types defines the data types shared by the sampling, windowing and
// storage layers of the procrank agent.
package types
