// Package utils provides common utility functions for the interrogato
// project: bounded concurrent execution, panic recovery, and vector math.
package utils
