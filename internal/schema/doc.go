// Package schema holds the remote store's entity metadata: attributes,
// localized labels and many-to-many relationship definitions.
//
// Metadata is authored as CUE and compiled into a Catalog:
//
//	entity: contact: {
//		set:       "contacts"
//		primaryId: "contactid"
//		labels: "en-US": "Contact"
//		attributes: {
//			parentcustomerid: {type: "lookup", targets: ["account"]}
//			ownerid: type: "owner"
//		}
//	}
//
//	relationship: contact_tag_association: {
//		intersect:        "contact_tag"
//		entity1:          "contact"
//		entity1Attribute: "contactid"
//		entity2:          "tag"
//		entity2Attribute: "tagid"
//	}
//
// The import engine consults the Catalog to tell declared references from
// plain identifiers and to classify association records.
package schema
