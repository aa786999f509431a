package pointer

// To returns a pointer to the provided value
func To[T any](value T) *T {
	return &value
}

// String returns a pointer to the provided string value
func String(value string) *string {
	return To(value)
}

// IfValid returns a pointer to the value if it's valid, otherwise nil
func IfValid[T any](valid bool, value T) *T {
	if valid {
		return &value
	}
	return nil
}

// Copy returns a pointer that's a copy of the provided value
func Copy[T any](value *T) *T {
	if value == nil {
		return nil
	}
	return To(*value)
}

// ValueOrDefault dereferences value, falling back to defaultValue when nil
func ValueOrDefault[T any](value *T, defaultValue T) T {
	if value == nil {
		return defaultValue
	}
	return *value
}
