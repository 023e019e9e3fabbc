package tables

var Tables = []interface{}{
	&InscriptionJob{},
	&FileBlob{},
	&ListingEvent{},
}
