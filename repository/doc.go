// Package repository assembles repositories for mapped aggregates: a factory
// that binds an aggregate template to a base implementation, resolves query
// methods through a lookup strategy and exposes typed CRUD facades.
package repository
