// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain types in domain/shop so the domain stays
// free of ORM tags; mapper functions convert in both directions.
//
//   - SessionModel: shop_sessions, one row per offline or online credential
//   - InstallationModel: shop_installations, one row per installed tenant
package models
